// Package character models the Diablo II stat block that gets synchronized.
package character

import (
	"github.com/st-keller/charsync/schema"
)

// Character is one observed snapshot. Yaml tags match the wire names so
// recorded sessions can be replayed.
type Character struct {
	Name       string `yaml:"name"`
	Level      int    `yaml:"level"`
	Experience int    `yaml:"experience"`

	Strength  int `yaml:"strength"`
	Dexterity int `yaml:"dexterity"`
	Vitality  int `yaml:"vitality"`
	Energy    int `yaml:"energy"`

	Hitpoints    int `yaml:"hitpoints"`
	HitpointsMax int `yaml:"hitpointsMax"`
	Mana         int `yaml:"mana"`
	ManaMax      int `yaml:"manaMax"`

	FireResist      int `yaml:"fireRes"`
	ColdResist      int `yaml:"coldRes"`
	LightningResist int `yaml:"lightRes"`
	PoisonResist    int `yaml:"poisonRes"`

	Gold      int   `yaml:"gold"`
	GoldStash int   `yaml:"goldStash"`
	Deaths    int16 `yaml:"deaths"`

	FasterCastRate       int `yaml:"fcr"`
	FasterRunWalk        int `yaml:"frw"`
	FasterHitRecovery    int `yaml:"fhr"`
	IncreasedAttackSpeed int `yaml:"ias"`

	// Time is play time in milliseconds.
	Time int64 `yaml:"t"`
}

// Identity implements types.State.
func (c *Character) Identity() string { return c.Name }

// Elapsed implements types.State.
func (c *Character) Elapsed() int64 { return c.Time }

// statFields is every tracked stat except the name, in wire order.
var statFields = []schema.Field[*Character]{
	schema.Track("level", func(c *Character) int { return c.Level }),
	schema.Track("experience", func(c *Character) int { return c.Experience }),
	schema.Track("strength", func(c *Character) int { return c.Strength }),
	schema.Track("dexterity", func(c *Character) int { return c.Dexterity }),
	schema.Track("vitality", func(c *Character) int { return c.Vitality }),
	schema.Track("energy", func(c *Character) int { return c.Energy }),
	schema.Track("hitpoints", func(c *Character) int { return c.Hitpoints }),
	schema.Track("hitpointsMax", func(c *Character) int { return c.HitpointsMax }),
	schema.Track("mana", func(c *Character) int { return c.Mana }),
	schema.Track("manaMax", func(c *Character) int { return c.ManaMax }),
	schema.Track("fireRes", func(c *Character) int { return c.FireResist }),
	schema.Track("coldRes", func(c *Character) int { return c.ColdResist }),
	schema.Track("lightRes", func(c *Character) int { return c.LightningResist }),
	schema.Track("poisonRes", func(c *Character) int { return c.PoisonResist }),
	schema.Track("gold", func(c *Character) int { return c.Gold }),
	schema.Track("goldStash", func(c *Character) int { return c.GoldStash }),
	schema.Track("deaths", func(c *Character) int16 { return c.Deaths }),
	schema.Track("fcr", func(c *Character) int { return c.FasterCastRate }),
	schema.Track("frw", func(c *Character) int { return c.FasterRunWalk }),
	schema.Track("fhr", func(c *Character) int { return c.FasterHitRecovery }),
	schema.Track("ias", func(c *Character) int { return c.IncreasedAttackSpeed }),
}

// RequestSchema is used with one-shot requests, which carry the name as metadata.
func RequestSchema() *schema.Schema[*Character] {
	return schema.MustNew(statFields...)
}

// StreamSchema tracks the name as an ordinary field, since stream data frames
// carry no identity.
func StreamSchema() *schema.Schema[*Character] {
	fields := make([]schema.Field[*Character], 0, len(statFields)+1)
	fields = append(fields, schema.Track("name", func(c *Character) string { return c.Name }))
	fields = append(fields, statFields...)
	return schema.MustNew(fields...)
}
