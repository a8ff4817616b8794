package bmi

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

//go:embed openapi.yaml
var openapiYAML []byte

var (
	specOnce   sync.Once
	specRouter routers.Router
	specErr    error
)

// Router returns a router over the embedded protocol description.
func Router() (routers.Router, error) {
	specOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(openapiYAML)
		if err != nil {
			specErr = fmt.Errorf("load bmi openapi: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			specErr = fmt.Errorf("validate bmi openapi: %w", err)
			return
		}
		specRouter, specErr = legacy.NewRouter(doc)
	})
	return specRouter, specErr
}

type statusBody struct {
	Status string `json:"status"`
}

type errorBody struct {
	Error string `json:"error"`
}

type initializeBody struct {
	ConfigFile string `json:"config_file"`
}

type timeBody struct {
	Time float64 `json:"time"`
}

type nameBody struct {
	Name string `json:"name"`
}

type namesBody struct {
	Names []string `json:"names"`
}

type textBody struct {
	Value string `json:"value"`
}

type intBody struct {
	Value int `json:"value"`
}

type numberBody struct {
	Value float64 `json:"value"`
}

type intsBody struct {
	Values []int `json:"values"`
}

type valuesBody struct {
	Values Values `json:"values"`
}

type indicesBody struct {
	Indices []int `json:"indices"`
}

type indexedValuesBody struct {
	Indices []int  `json:"indices"`
	Values  Values `json:"values"`
}
