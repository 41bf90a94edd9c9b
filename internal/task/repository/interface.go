// Package repository provides storage backends for tasks.
package repository

import (
	"github.com/execdesk/execdesk/internal/task"
)

// Repository defines the interface for task storage operations. All
// implementations must be safe for concurrent use; lifecycle validation
// lives in the manager, not here.
//
// The interface is declared in the task package to avoid an import cycle
// (this package imports the task models); it is aliased here so callers
// can keep referring to repository.Repository.
type Repository = task.Repository
