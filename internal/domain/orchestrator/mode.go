package orchestrator

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/cache"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/completion"
)

// Mode selects how a request is served
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeEnhance  Mode = "enhance"
	ModeDocument Mode = "document"
	ModeOptimize Mode = "optimize"
)

// Modes lists every supported mode in a stable order
var Modes = []Mode{ModeFast, ModeEnhance, ModeDocument, ModeOptimize}

// UnknownModeError names the rejected mode and the supported ones
type UnknownModeError struct {
	Mode      string
	Supported []Mode
}

func (e *UnknownModeError) Error() string {
	names := make([]string, len(e.Supported))
	for i, m := range e.Supported {
		names[i] = string(m)
	}
	return fmt.Sprintf("unknown mode %q (supported: %s)", e.Mode, strings.Join(names, ", "))
}

// ParseMode validates s against the closed set of modes
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeFast, ModeEnhance, ModeDocument, ModeOptimize:
		return m, nil
	}
	return "", &UnknownModeError{Mode: s, Supported: Modes}
}

func (m Mode) String() string { return string(m) }

// modePolicy is everything the router needs to know about a mode
type modePolicy struct {
	async          bool
	ttl            cache.TTLClass
	leadTier       completion.Tier
	retrieval      bool
	maxSuggestions int
}

// fallbackTier is the other model tier
func (p modePolicy) fallbackTier() completion.Tier {
	if p.leadTier == completion.TierPrimary {
		return completion.TierSecondary
	}
	return completion.TierPrimary
}

func (m Mode) policy() modePolicy {
	switch m {
	case ModeFast:
		return modePolicy{ttl: cache.TTLShort, leadTier: completion.TierSecondary, maxSuggestions: 5}
	case ModeEnhance:
		return modePolicy{ttl: cache.TTLDefault, leadTier: completion.TierPrimary, retrieval: true, maxSuggestions: 10}
	case ModeDocument:
		return modePolicy{async: true, ttl: cache.TTLLong, leadTier: completion.TierPrimary, retrieval: true, maxSuggestions: 10}
	case ModeOptimize:
		return modePolicy{ttl: cache.TTLLong, leadTier: completion.TierPrimary, maxSuggestions: 10}
	}
	panic(fmt.Sprintf("orchestrator: no policy for mode %q", string(m)))
}
