package config

import "github.com/spf13/afero"

// fs is replaced by an in-memory filesystem in tests.
var fs = afero.NewOsFs()
