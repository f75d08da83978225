// Cost control configuration re-exports.
//
// DESIGN: Limits and pricing are defined in internal/costcontrol/types.go and
// pricing.go. This file re-exports the types for use by the main Config struct.
package config

import "github.com/compresr/realtime-gateway/internal/costcontrol"

// CostLimits is an alias for costcontrol.CostLimits.
type CostLimits = costcontrol.CostLimits

// Pricing is an alias for costcontrol.Pricing.
type Pricing = costcontrol.Pricing
