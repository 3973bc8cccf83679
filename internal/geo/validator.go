package geo

// DefaultRadiusMeters is the check-in radius used when none is configured.
const DefaultRadiusMeters = 300.0

// Proximity is the outcome of comparing a user coordinate with a target.
type Proximity struct {
	DistanceMeters float64 `json:"distanceMeters"`
	RadiusMeters   float64 `json:"radiusMeters"`
	Within         bool    `json:"within"`
}

// Validator decides whether a coordinate is close enough to a target.
// Bypass forces every check to pass; it exists for development builds only.
type Validator struct {
	RadiusMeters float64
	Bypass       bool
}

// NewValidator creates a Validator, falling back to DefaultRadiusMeters
// for a non-positive radius.
func NewValidator(radiusMeters float64, bypass bool) *Validator {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	return &Validator{RadiusMeters: radiusMeters, Bypass: bypass}
}

// IsWithinRadius reports whether user lies within radiusMeters of target.
// Missing or invalid coordinates fail closed unless the bypass is active.
func (v *Validator) IsWithinRadius(user, target *Coordinate, radiusMeters float64) bool {
	if v.Bypass {
		return true
	}
	return IsWithinRadius(user, target, radiusMeters)
}

// Check compares user and target with the validator's radius.
// It returns ErrInvalidCoordinate when either side is unusable so callers
// can tell "location unavailable" apart from "too far".
func (v *Validator) Check(user, target *Coordinate) (Proximity, error) {
	p := Proximity{RadiusMeters: v.RadiusMeters}
	if user == nil || target == nil || !user.Valid() || !target.Valid() {
		return p, ErrInvalidCoordinate
	}

	p.DistanceMeters = DistanceMeters(*user, *target)
	p.Within = v.IsWithinRadius(user, target, v.RadiusMeters)
	return p, nil
}

// IsWithinRadius is the bypass-free check: true iff both coordinates are
// valid and their distance is at most radiusMeters.
func IsWithinRadius(user, target *Coordinate, radiusMeters float64) bool {
	if user == nil || target == nil || !user.Valid() || !target.Valid() {
		return false
	}
	return DistanceMeters(*user, *target) <= radiusMeters
}
