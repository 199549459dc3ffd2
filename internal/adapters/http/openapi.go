package httpadapter

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

type apiSpec struct {
	doc  *openapi3.T
	json []byte
}

func loadAPISpec(ctx context.Context) (*apiSpec, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal openapi document: %w", err)
	}
	return &apiSpec{doc: doc, json: raw}, nil
}

func mustLoadAPISpec() *apiSpec {
	spec, err := loadAPISpec(context.Background())
	if err != nil {
		panic(err)
	}
	return spec
}
