package campaign

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"signal-trader/pkg/exchanges/common"
)

// Config parameterises one campaign.
type Config struct {
	Bar        string            `yaml:"bar" json:"bar"`
	MarginMode common.MarginMode `yaml:"margin_mode" json:"margin_mode"`
	Leverage   int               `yaml:"leverage" json:"leverage"`
	SizeUSD    float64           `yaml:"size_usd" json:"size_usd"`
	// Slope bounds gate opening a position; zero leaves a side unbounded.
	SlopeMin  float64        `yaml:"slope_min" json:"slope_min"`
	SlopeMax  float64        `yaml:"slope_max" json:"slope_max"`
	Trailing  TrailingPolicy `yaml:"variance" json:"variance"`
	ArmOnOpen bool           `yaml:"arm_on_open" json:"arm_on_open"`
	TokenMode string         `yaml:"token_mode" json:"token_mode"`
}

// DefaultConfig returns the settings used for fields a caller leaves empty.
func DefaultConfig() Config {
	return Config{
		Bar:        "15m",
		MarginMode: common.MarginIsolated,
		Leverage:   5,
		SizeUSD:    100,
		TokenMode:  "whitelist",
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Bar == "" {
		c.Bar = def.Bar
	}
	if c.MarginMode == "" {
		c.MarginMode = def.MarginMode
	}
	if c.Leverage == 0 {
		c.Leverage = def.Leverage
	}
	if c.SizeUSD == 0 {
		c.SizeUSD = def.SizeUSD
	}
	if c.TokenMode == "" {
		c.TokenMode = def.TokenMode
	}
	return c
}

// Validate rejects configurations the exchange or the engine cannot act on.
func (c Config) Validate() error {
	var errs []error
	if c.Bar == "" {
		errs = append(errs, errors.New("bar is required"))
	}
	if !c.MarginMode.Valid() {
		errs = append(errs, fmt.Errorf("margin mode %q must be isolated or cross", c.MarginMode))
	}
	if c.Leverage < 1 || c.Leverage > 125 {
		errs = append(errs, fmt.Errorf("leverage %d out of range 1..125", c.Leverage))
	}
	if c.SizeUSD <= 0 {
		errs = append(errs, fmt.Errorf("size %v must be positive", c.SizeUSD))
	}
	if c.SlopeMin != 0 && c.SlopeMax != 0 && c.SlopeMin > c.SlopeMax {
		errs = append(errs, fmt.Errorf("slope_min %v above slope_max %v", c.SlopeMin, c.SlopeMax))
	}
	if c.ArmOnOpen && !c.Trailing.Enabled() {
		errs = append(errs, errors.New("arm_on_open requires a variance policy"))
	}
	return errors.Join(errs...)
}

// TrailingPolicy is the parsed form of the variance setting.
//
//	""  or "off"          trailing disabled
//	"auto[,multiple]"     callback ratio derived from ATR fluctuation
//	"<ratio>[,multiple]"  fixed callback ratio, e.g. "0.01,0.5"
//
// Multiple scales the ATR both for the activation threshold and for the
// derived ratio; it defaults to 1.
type TrailingPolicy struct {
	Auto     bool
	Ratio    float64
	Multiple float64
}

// Enabled reports whether the campaign supervises trailing stops.
func (p TrailingPolicy) Enabled() bool {
	return p.Auto || p.Ratio > 0
}

// ParseTrailingPolicy parses the variance string.
func ParseTrailingPolicy(s string) (TrailingPolicy, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "off" {
		return TrailingPolicy{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return TrailingPolicy{}, fmt.Errorf("variance %q: expected at most two fields", s)
	}

	p := TrailingPolicy{Multiple: 1}
	head := strings.TrimSpace(parts[0])
	if head == "auto" {
		p.Auto = true
	} else {
		r, err := strconv.ParseFloat(head, 64)
		if err != nil {
			return TrailingPolicy{}, fmt.Errorf("variance %q: %w", s, err)
		}
		if r <= 0 || r > 1 {
			return TrailingPolicy{}, fmt.Errorf("variance %q: ratio must be in (0, 1]", s)
		}
		p.Ratio = r
	}
	if len(parts) == 2 {
		m, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return TrailingPolicy{}, fmt.Errorf("variance %q: multiple: %w", s, err)
		}
		if m <= 0 {
			return TrailingPolicy{}, fmt.Errorf("variance %q: multiple must be positive", s)
		}
		p.Multiple = m
	}
	return p, nil
}

// String renders the policy in the form ParseTrailingPolicy accepts.
func (p TrailingPolicy) String() string {
	if !p.Enabled() {
		return "off"
	}
	head := "auto"
	if !p.Auto {
		head = strconv.FormatFloat(p.Ratio, 'f', -1, 64)
	}
	if p.Multiple == 0 || p.Multiple == 1 {
		return head
	}
	return head + "," + strconv.FormatFloat(p.Multiple, 'f', -1, 64)
}

func (p TrailingPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *TrailingPolicy) UnmarshalText(b []byte) error {
	parsed, err := ParseTrailingPolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// EffectiveMultiple returns Multiple, treating zero as 1.
func (p TrailingPolicy) EffectiveMultiple() float64 {
	if p.Multiple <= 0 {
		return 1
	}
	return p.Multiple
}
