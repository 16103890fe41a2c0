// Package campaign runs rate-limited direct-message campaigns against the
// follower cache.
package campaign

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"followcast/internal/model"
	"followcast/internal/query"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalid is wrapped by every descriptor validation failure.
var ErrInvalid = errors.New("invalid campaign")

// Descriptor is a campaign as submitted. It is validated once and not
// changed afterwards, except that a run may force DryRun on.
type Descriptor struct {
	Account string `json:"account" validate:"required,max=64"`
	Message string `json:"message" validate:"required,max=10000"`
	// ID defaults to a name-based UUID of Message, so resubmitting the same
	// text continues the same campaign.
	ID     string         `json:"id,omitempty" validate:"omitempty,max=128"`
	Sort   model.SortMode `json:"sort,omitempty" validate:"omitempty,oneof=influence recent"`
	Pacing model.Pacing   `json:"pacing,omitempty" validate:"omitempty,oneof=burst spread"`
	DryRun bool           `json:"dry_run"`
	// Count caps the sends of one run; nil means no cap.
	Count *int     `json:"count,omitempty" validate:"omitempty,gte=0"`
	Tags  []string `json:"tags,omitempty" validate:"omitempty,max=50"`
}

// ValidationError lists field problems keyed by JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid campaign: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("followcast:campaign"))

// DeriveID is the stable campaign id for a message text.
func DeriveID(message string) string {
	return uuid.NewSHA1(idNamespace, []byte(message)).String()
}

// Normalize validates d and returns a copy with defaults applied and tags
// cleaned.
func (d Descriptor) Normalize() (Descriptor, error) {
	d.Account = strings.TrimSpace(d.Account)
	d.ID = strings.TrimSpace(d.ID)
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return d, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		fields := map[string]string{}
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		return d, &ValidationError{Fields: fields}
	}
	if strings.TrimSpace(d.Message) == "" {
		return d, &ValidationError{Fields: map[string]string{"message": "must not be blank"}}
	}
	tags, err := query.CleanTags(d.Tags)
	if err != nil {
		return d, &ValidationError{Fields: map[string]string{"tags": err.Error()}}
	}
	d.Tags = tags
	if d.ID == "" {
		d.ID = DeriveID(d.Message)
	}
	if d.Pacing == "" {
		d.Pacing = model.PacingBurst
	}
	if d.Sort == "" {
		d.Sort = model.SortRecent
	}
	if d.Count != nil {
		n := *d.Count
		d.Count = &n
	}
	return d, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	}
	return "failed " + fe.Tag()
}
