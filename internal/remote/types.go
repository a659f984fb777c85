package remote

import (
	"fmt"
	"net"
	"strconv"
)

// ConnectionInfo identifies a remote endpoint and carries exactly one
// credential: a password or a private key.
type ConnectionInfo struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte
}

// Key is the pool key "user@host:port".
func (c ConnectionInfo) Key() string {
	return EndpointKey(c.Username, c.Host, c.Port)
}

// EndpointKey formats the identity shared by the pool and the credential store.
func EndpointKey(user, host string, port int) string {
	return user + "@" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Validate checks that the endpoint is addressable and that exactly one
// credential is present.
func (c ConnectionInfo) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidConnection)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConnection, c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidConnection)
	}
	hasPassword := c.Password != ""
	hasKey := len(c.PrivateKey) > 0
	if hasPassword == hasKey {
		return fmt.Errorf("%w: exactly one of password or private key is required", ErrInvalidConnection)
	}
	return nil
}

// String never includes the credential.
func (c ConnectionInfo) String() string {
	return c.Key()
}

// ResultCode is the numeric outcome of a remote operation.
type ResultCode int

const (
	CodeNoConfiguration  ResultCode = 0
	CodeConnectionFailed ResultCode = 1
	CodeTransferFailed   ResultCode = 2
	CodeInvalidPath      ResultCode = 3
	CodeSuccess          ResultCode = 200
)

func (c ResultCode) String() string {
	switch c {
	case CodeNoConfiguration:
		return "no-configuration"
	case CodeConnectionFailed:
		return "connection-failed"
	case CodeTransferFailed:
		return "transfer-failed"
	case CodeInvalidPath:
		return "invalid-path"
	case CodeSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// TransferResult reports a single remote operation. Err carries the typed
// cause for callers that branch on it; ErrorMessage is its display form.
type TransferResult struct {
	Success          bool
	Code             ResultCode
	ErrorMessage     string
	Err              error
	BytesTransferred int64
}

// Succeeded builds a success result.
func Succeeded(bytes int64) TransferResult {
	return TransferResult{Success: true, Code: CodeSuccess, BytesTransferred: bytes}
}

// Failed builds a failure result from a code and cause.
func Failed(code ResultCode, err error) TransferResult {
	r := TransferResult{Code: code, Err: err}
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	return r
}
