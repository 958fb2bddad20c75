package config

import (
	"bytes"
	"fmt"
	"os"

	"dashie_cam/native/internal/domain"

	"gopkg.in/yaml.v3"
)

// CardFile is the YAML rendering of a camera card.
type CardFile struct {
	Entity          string   `yaml:"entity"`
	Stream          string   `yaml:"stream"`
	Cameras         []string `yaml:"cameras"`
	Grid            string   `yaml:"grid"`
	FPS             int      `yaml:"fps"`
	Quality         int      `yaml:"quality"`
	CompositeName   string   `yaml:"composite_name"`
	RelayURL        string   `yaml:"relay_url"`
	Protocol        string   `yaml:"protocol"`
	Transcode       string   `yaml:"transcode"`
	TranscodeWidth  int      `yaml:"transcode_width"`
	TranscodeHeight int      `yaml:"transcode_height"`
}

// LoadCard reads and validates the card at path.
func LoadCard(path string) (domain.CardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CardConfig{}, fmt.Errorf("read card: %w", err)
	}
	return ParseCard(data)
}

// ParseCard decodes a card. Unknown keys are rejected.
func ParseCard(data []byte) (domain.CardConfig, error) {
	var f CardFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return domain.CardConfig{}, domain.NewError(domain.ErrConfiguration, "card.parse", err)
	}
	return f.CardConfig()
}

// CardConfig converts the file form into a validated CardConfig.
func (f CardFile) CardConfig() (domain.CardConfig, error) {
	var composite *domain.CompositeSpec
	if len(f.Cameras) > 0 {
		spec := domain.CompositeSpec{
			Cameras: f.Cameras,
			Grid:    f.Grid,
			FPS:     f.FPS,
			Quality: f.Quality,
			Name:    f.CompositeName,
		}.WithDefaults()
		composite = &spec
	}

	target, err := domain.NewStreamTarget(f.Entity, f.Stream, composite)
	if err != nil {
		return domain.CardConfig{}, err
	}
	protocol, err := domain.ParseTransportKind(f.Protocol)
	if err != nil {
		return domain.CardConfig{}, err
	}

	mode := domain.TranscodeMode(f.Transcode)
	switch mode {
	case "":
		mode = domain.TranscodeAuto
	case domain.TranscodeAuto, domain.TranscodeAlways, domain.TranscodeNever:
	default:
		return domain.CardConfig{}, domain.NewError(domain.ErrConfiguration, "card.transcode",
			fmt.Errorf("unknown transcode mode %q", f.Transcode))
	}

	return domain.CardConfig{
		Target:          target,
		RelayURL:        f.RelayURL,
		Protocol:        protocol,
		Transcode:       mode,
		TranscodeWidth:  f.TranscodeWidth,
		TranscodeHeight: f.TranscodeHeight,
	}, nil
}
