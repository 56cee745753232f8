package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/go-playground/validator/v10"
)

// wireRequest is the fixed inbound schema. Pointer fields distinguish an
// absent value from a zero value.
type wireRequest struct {
	AppID         string                 `json:"appId" validate:"required,max=256"`
	JobDefinition map[string]interface{} `json:"job_definition" validate:"required"`
	Parameters    *domain.JobParameters  `json:"parameters" validate:"omitempty"`
	Data          map[string]interface{} `json:"data"`
	Instanced     *bool                  `json:"instanced"`
}

// Normalizer validates inbound messages
type Normalizer struct {
	validate *validator.Validate
}

// New creates a new message normalizer
func New() *Normalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return jsonName(fld.Tag.Get("json"))
	})
	return &Normalizer{validate: v}
}

// Normalize parses msg and validates it against the request schema
func (n *Normalizer) Normalize(msg domain.Message) (*domain.Request, error) {
	structured := msg.Structured
	if len(structured) == 0 {
		parsed, err := parseRaw(msg.Raw)
		if err != nil {
			return nil, domain.NewError(domain.KindMalformedMessage, "failed to load JSON from message", err)
		}
		structured = parsed
	}

	return n.Validate(structured, false)
}

// Validate checks a structured message against the request schema. With
// permissive set, unknown top-level fields are ignored.
func (n *Normalizer) Validate(structured map[string]interface{}, permissive bool) (*domain.Request, error) {
	body, err := json.Marshal(structured)
	if err != nil {
		return nil, domain.NewError(domain.KindMalformedMessage, "message is not representable as JSON", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	if !permissive {
		dec.DisallowUnknownFields()
	}

	var wire wireRequest
	if err := dec.Decode(&wire); err != nil {
		return nil, domain.NewError(domain.KindSchemaValidation, "failed to validate message to schema", err)
	}

	wire.AppID = strings.TrimSpace(wire.AppID)
	if err := n.validate.Struct(&wire); err != nil {
		return nil, domain.NewError(domain.KindSchemaValidation, "failed to validate message to schema", describe(err))
	}

	req := &domain.Request{
		AppID:         wire.AppID,
		JobDefinition: wire.JobDefinition,
		Data:          wire.Data,
		Instanced:     true,
	}
	if wire.Parameters != nil {
		req.Parameters = *wire.Parameters
	}
	if wire.Instanced != nil {
		req.Instanced = *wire.Instanced
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}

	return req, nil
}

// parseRaw decodes the raw text fallback into a JSON object
func parseRaw(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("message is empty")
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("message is an empty object")
	}
	return out, nil
}

// describe flattens validator errors into one readable error
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}

func jsonName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}
