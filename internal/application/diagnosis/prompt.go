package diagnosis

import (
	"fmt"
	"strings"
)

// BuildPrompt 构建有界的诊断提示词。
// 结构固定：患者信息、症状、备注、疾病参考上下文、严格的输出格式约束。
// 输出约束里显式限定候选上限，模型越界的部分在归一化阶段截断。
func BuildPrompt(in Input, diseaseContext string, maxPredictions int) string {
	var b strings.Builder

	b.WriteString("You are a medical diagnosis assistant. Based on the patient information below, ")
	b.WriteString("predict the most likely diseases.\n\n")

	fmt.Fprintf(&b, "Patient: age %d, gender %s\n", in.Age, in.Gender)
	fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(in.Symptoms, ", "))
	fmt.Fprintf(&b, "Duration: %s\n", in.Duration)
	fmt.Fprintf(&b, "Severity: %s\n", in.Severity)
	if in.Notes != "" {
		fmt.Fprintf(&b, "Additional notes: %s\n", in.Notes)
	}

	b.WriteString("\nReference disease catalog (only predict diseases related to these entries):\n")
	b.WriteString(diseaseContext)

	fmt.Fprintf(&b, "\nRespond with JSON only, no surrounding text. Schema:\n")
	b.WriteString(`{
  "predictions": [
    {
      "disease_name": "string, must match a catalog entry",
      "confidence": 0.0,
      "reasoning": ["short string"],
      "risk_factors": ["short string"],
      "recommendations": ["short string"],
      "explanation": "one sentence for the patient"
    }
  ]
}`)
	fmt.Fprintf(&b, "\nReturn at most %d predictions, ordered by confidence descending.\n", maxPredictions)

	return b.String()
}
