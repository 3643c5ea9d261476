// canonical-v1 模式校验
// 文档入库前必须通过校验，校验失败对整个摄取事务是致命错误
package ingest

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schema/canonical-v1.schema.json
var canonicalV1SchemaJSON []byte

// CanonicalValidator canonical-v1 模式校验器
// 模式在进程启动时编译一次，可并发复用
type CanonicalValidator struct {
	schema *jsonschema.Schema
}

// NewCanonicalValidator 创建校验器
func NewCanonicalValidator() (*CanonicalValidator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(canonicalV1SchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile canonical-v1 schema: %w", err)
	}
	return &CanonicalValidator{schema: schema}, nil
}

// Validate 校验 canonical 文档，返回序列化后的 JSON 与校验结果
func (v *CanonicalValidator) Validate(canonical map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical document: %w", err)
	}
	result := v.schema.ValidateJSON(data)
	if !result.IsValid() {
		return nil, fmt.Errorf("canonical-v1 schema validation failed: %v", result.Errors)
	}
	return data, nil
}
