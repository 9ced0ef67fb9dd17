package level

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// defaultCvars are the console variables scripts may read. Setting a name
// not listed here is ignored with a warning.
var defaultCvars = map[string]string{
	"sv_gravity":     "800",
	"sv_maxvelocity": "2000",
	"sv_friction":    "4",
	"sv_stopspeed":   "100",
	"sv_maxspeed":    "320",
	"sv_accelerate":  "10",
	"sv_aim":         "0.93",
	"skill":          "1",
	"deathmatch":     "0",
	"coop":           "0",
	"teamplay":       "0",
	"fraglimit":      "0",
	"timelimit":      "0",
	"samelevel":      "0",
	"noexit":         "0",
	"registered":     "1",
	"developer":      "0",
	"temp1":          "0",
	"saved1":         "0",
	"saved2":         "0",
	"saved3":         "0",
	"saved4":         "0",
}

// Cvars holds console variables as strings, the way scripts set them.
type Cvars struct {
	vars map[string]string
}

func NewCvars(overrides map[string]string) *Cvars {
	c := &Cvars{vars: maps.Clone(defaultCvars)}
	for k, v := range overrides {
		c.vars[k] = v
	}
	return c
}

// Value parses the variable as a float. Unknown names and unparsable
// values read as zero.
func (c *Cvars) Value(name string) float32 {
	return atof(c.vars[name])
}

func (c *Cvars) String(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Set updates a known variable and reports whether it exists.
func (c *Cvars) Set(name, value string) bool {
	if _, ok := c.vars[name]; !ok {
		return false
	}
	c.vars[name] = value
	return true
}

func (c *Cvars) Names() []string {
	return slices.Sorted(maps.Keys(c.vars))
}

// atof reads the longest numeric prefix of s, zero if there is none.
func atof(s string) float32 {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return float32(f)
	}
	end := 0
	for i, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || ((r == '-' || r == '+') && i == 0) {
			end = i + 1
			continue
		}
		break
	}
	for ; end > 0; end-- {
		if f, err := strconv.ParseFloat(s[:end], 32); err == nil {
			return float32(f)
		}
	}
	return 0
}
