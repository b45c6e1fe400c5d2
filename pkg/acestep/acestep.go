package acestep

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type selects which generation endpoint handles a request.
type Type string

const (
	TypeDescription     Type = "description"
	TypeCustomLyrics    Type = "custom_lyrics"
	TypeDescribedLyrics Type = "described_lyrics"
)

// Minimum lengths for the primary text field of each variant.
const (
	minDescription     = 10
	minLyrics          = 20
	minDescribedLyrics = 15
)

// GenerationConfig holds the sampler settings shared by all request
// variants.
type GenerationConfig struct {
	AudioDuration int     `json:"audio_duration"`
	Seed          int     `json:"seed"`
	GuidanceScale float64 `json:"guidance_scale"`
	InferStep     int     `json:"infer_step"`
	Instrumental  bool    `json:"instrumental"`
}

// DefaultConfig returns the sampler settings the service performs best
// with.
func DefaultConfig() GenerationConfig {
	return GenerationConfig{
		AudioDuration: 180,
		Seed:          -1,
		GuidanceScale: 15,
		InferStep:     60,
		Instrumental:  false,
	}
}

// Check validates the sampler ranges. Each violation has its own message
// so the user knows which slider to fix.
func (c GenerationConfig) Check() error {
	if c.AudioDuration < 30 || c.AudioDuration > 300 {
		return ValidationError("audio duration must be between 30 seconds and 5 minutes")
	}
	if c.Seed < -1 {
		return ValidationError("seed must be -1 for random or a non-negative value")
	}
	if c.GuidanceScale < 1 || c.GuidanceScale > 20 {
		return ValidationError("guidance scale must be between 1 and 20")
	}
	if c.InferStep < 20 || c.InferStep > 100 {
		return ValidationError("inference steps must be between 20 and 100")
	}
	return nil
}

// ValidationError is a local pre-network failure; it never reaches the
// service.
type ValidationError string

func (e ValidationError) Error() string {
	return string(e)
}

// Request is one of the three generation request variants.
type Request interface {
	// Type identifies the variant and its endpoint.
	Type() Type
	// Text returns the primary text field, used for display titles.
	Text() string
	// Sampler returns the shared sampler settings.
	Sampler() GenerationConfig
	// Check validates the variant's text fields.
	Check() error
}

// DescriptionRequest generates a full song from a free-form description.
type DescriptionRequest struct {
	FullDescribedSong string `json:"full_described_song"`
	GenerationConfig
}

func (r *DescriptionRequest) Type() Type { return TypeDescription }
func (r *DescriptionRequest) Text() string { return r.FullDescribedSong }
func (r *DescriptionRequest) Sampler() GenerationConfig { return r.GenerationConfig }

func (r *DescriptionRequest) Check() error {
	s := strings.TrimSpace(r.FullDescribedSong)
	if s == "" {
		return ValidationError("a song description is required")
	}
	if len(s) < minDescription {
		return ValidationError(fmt.Sprintf("the song description must be at least %d characters", minDescription))
	}
	return nil
}

// CustomLyricsRequest generates a song for user-written lyrics in a given
// style.
type CustomLyricsRequest struct {
	Prompt string `json:"prompt"`
	Lyrics string `json:"lyrics"`
	GenerationConfig
}

func (r *CustomLyricsRequest) Type() Type { return TypeCustomLyrics }
func (r *CustomLyricsRequest) Text() string { return r.Prompt }
func (r *CustomLyricsRequest) Sampler() GenerationConfig { return r.GenerationConfig }

func (r *CustomLyricsRequest) Check() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ValidationError("a style prompt is required")
	}
	s := strings.TrimSpace(r.Lyrics)
	if s == "" {
		return ValidationError("lyrics are required")
	}
	if len(s) < minLyrics {
		return ValidationError(fmt.Sprintf("lyrics must be at least %d characters", minLyrics))
	}
	return nil
}

// DescribedLyricsRequest generates a song whose lyrics are written by the
// service from a description.
type DescribedLyricsRequest struct {
	Prompt          string `json:"prompt"`
	DescribedLyrics string `json:"described_lyrics"`
	GenerationConfig
}

func (r *DescribedLyricsRequest) Type() Type { return TypeDescribedLyrics }
func (r *DescribedLyricsRequest) Text() string { return r.Prompt }
func (r *DescribedLyricsRequest) Sampler() GenerationConfig { return r.GenerationConfig }

func (r *DescribedLyricsRequest) Check() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ValidationError("a style prompt is required")
	}
	s := strings.TrimSpace(r.DescribedLyrics)
	if s == "" {
		return ValidationError("a lyrics description is required")
	}
	if len(s) < minDescribedLyrics {
		return ValidationError(fmt.Sprintf("the lyrics description must be at least %d characters", minDescribedLyrics))
	}
	return nil
}

// Validate reports whether the request carries the text fields its type
// requires. Length and sampler range checks are separate, see Check.
func Validate(t Type, req Request) bool {
	switch t {
	case TypeDescription:
		r, ok := req.(*DescriptionRequest)
		return ok && strings.TrimSpace(r.FullDescribedSong) != ""
	case TypeCustomLyrics:
		r, ok := req.(*CustomLyricsRequest)
		return ok && strings.TrimSpace(r.Prompt) != "" && strings.TrimSpace(r.Lyrics) != ""
	case TypeDescribedLyrics:
		r, ok := req.(*DescribedLyricsRequest)
		return ok && strings.TrimSpace(r.Prompt) != "" && strings.TrimSpace(r.DescribedLyrics) != ""
	default:
		return false
	}
}

// UnmarshalRequest decodes the JSON body of a request of the given type.
func UnmarshalRequest(t Type, data []byte) (Request, error) {
	var req Request
	switch t {
	case TypeDescription:
		req = &DescriptionRequest{}
	case TypeCustomLyrics:
		req = &CustomLyricsRequest{}
	case TypeDescribedLyrics:
		req = &DescribedLyricsRequest{}
	default:
		return nil, fmt.Errorf("acestep: unknown generation type: %s", t)
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("acestep: couldn't unmarshal %s request: %w", t, err)
	}
	return req, nil
}

// GeneratedMusic is the result of a successful generation call.
type GeneratedMusic struct {
	AudioURL   string   `json:"cloudinary_url"`
	CoverURL   string   `json:"cover_image_cloudinary_url"`
	Categories []string `json:"categories"`
}
