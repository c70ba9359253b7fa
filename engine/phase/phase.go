package phase

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Phase identifies one stage of the world rendering sequence. The sequence
// follows a deferred pipeline's front-to-back composition order: sky and
// environment first, then opaque terrain and entities, then translucent
// geometry and effects, then the player hand, and finally the outline and
// debug overlays.
type Phase int

const (
	// None is the initial phase; no commands are ever dispatched for it.
	None Phase = iota

	// Sky / environment group.
	Sky
	Sunset
	CustomSky
	Sun
	Moon
	Stars
	Void

	// Terrain / gbuffer fill group.
	TerrainSolid
	TerrainCutoutMipped
	TerrainCutout
	Entities
	BlockEntities
	Destroy

	// Translucent / particle / effects group.
	TerrainTranslucent
	Tripwire
	Particles
	Clouds
	RainSnow
	WorldBorder

	// Hand group.
	HandSolid
	HandTranslucent

	Outline
	Debug

	// Count bounds the enumeration; it is never a real phase value.
	Count
)

var names = [Count]string{
	None:                "none",
	Sky:                 "sky",
	Sunset:              "sunset",
	CustomSky:           "custom_sky",
	Sun:                 "sun",
	Moon:                "moon",
	Stars:               "stars",
	Void:                "void",
	TerrainSolid:        "terrain_solid",
	TerrainCutoutMipped: "terrain_cutout_mipped",
	TerrainCutout:       "terrain_cutout",
	Entities:            "entities",
	BlockEntities:       "block_entities",
	Destroy:             "destroy",
	TerrainTranslucent:  "terrain_translucent",
	Tripwire:            "tripwire",
	Particles:           "particles",
	Clouds:              "clouds",
	RainSnow:            "rain_snow",
	WorldBorder:         "world_border",
	HandSolid:           "hand_solid",
	HandTranslucent:     "hand_translucent",
	Outline:             "outline",
	Debug:               "debug",
}

// canonicalOrder is the fixed dispatch sequence. Group order is load-bearing:
// translucent geometry assumes depth and color state resolved by the opaque
// groups, the hand assumes the world is composed, and the overlays come last.
var canonicalOrder = [...]Phase{
	Sky, Sunset, CustomSky, Sun, Moon, Stars, Void,
	TerrainSolid, TerrainCutoutMipped, TerrainCutout, Entities, BlockEntities, Destroy,
	TerrainTranslucent, Tripwire, Particles, Clouds, RainSnow, WorldBorder,
	HandSolid, HandTranslucent,
	Outline,
	Debug,
}

// CanonicalOrder returns the fixed sequence in which phases must be visited
// each frame. The returned slice is a copy and never contains None or Count.
//
// Returns:
//   - []Phase: the dispatch sequence, sky group first and Debug last
func CanonicalOrder() []Phase {
	out := make([]Phase, len(canonicalOrder))
	copy(out, canonicalOrder[:])
	return out
}

// Valid reports whether p is a dispatchable phase, i.e. neither None nor
// out of range. Buckets may only ever exist for valid phases.
//
// Returns:
//   - bool: true if p names a real rendering phase
func (p Phase) Valid() bool {
	return p > None && p < Count
}

// String returns the lower snake-case name of the phase, or a bracketed
// numeric form for out-of-range values.
func (p Phase) String() string {
	if p >= None && p < Count {
		return names[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase resolves a phase by its snake-case name as produced by String.
//
// Parameters:
//   - s: the phase name, e.g. "terrain_solid"
//
// Returns:
//   - Phase: the matching phase
//   - error: an error if the name is unknown
func ParsePhase(s string) (Phase, error) {
	for p, name := range names {
		if name == s {
			return Phase(p), nil
		}
	}
	return None, fmt.Errorf("unknown rendering phase %q", s)
}

// IsSky reports whether p belongs to the sky/environment group.
func (p Phase) IsSky() bool {
	return p >= Sky && p <= Void
}

// IsTerrainOpaque reports whether p belongs to the opaque terrain/gbuffer group.
func (p Phase) IsTerrainOpaque() bool {
	return p >= TerrainSolid && p <= Destroy
}

// IsTranslucent reports whether p belongs to the translucent/effects group.
func (p Phase) IsTranslucent() bool {
	return p >= TerrainTranslucent && p <= WorldBorder
}

// IsHand reports whether p belongs to the hand group.
func (p Phase) IsHand() bool {
	return p == HandSolid || p == HandTranslucent
}

// MarshalYAML encodes the phase by name.
func (p Phase) MarshalYAML() (any, error) {
	if p < None || p >= Count {
		return nil, fmt.Errorf("cannot marshal out-of-range phase %d", int(p))
	}
	return p.String(), nil
}

// UnmarshalYAML decodes a phase from its snake-case name.
func (p *Phase) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParsePhase(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
