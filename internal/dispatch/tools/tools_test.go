package tools

import "github.com/shawkridge/athena/internal/types"

const projectID = types.ID(1)
