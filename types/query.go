package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrEmptyQuery   = errors.New("query cannot be empty")
	ErrEmptyURLList = errors.New("at least one URL is required")
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type IngestRequest struct {
	URLs []string `json:"urls" validate:"dive,required,http_url"`
}

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Answer string `json:"answer"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *IngestRequest) Validate() map[string]string {
	return structErrors(params)
}

func (params *QueryRequest) Validate() map[string]string {
	if strings.TrimSpace(params.Query) == "" {
		return map[string]string{"Query": "failed on 'required' tag"}
	}
	return nil
}

func structErrors(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"request": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}
