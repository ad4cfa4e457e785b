package app

import (
	"github.com/specialistvlad/steloinfra/internal/registry"
	"github.com/specialistvlad/steloinfra/modules/distribution"
)

// coreModules is the definitive list of all stage builders compiled into
// the steloinfra binary.
var coreModules = []registry.Module{
	&distribution.Module{},
}
