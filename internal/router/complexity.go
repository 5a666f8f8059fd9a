package router

import (
	"strings"

	"github.com/jesspig/micro-agent/internal/providers"
)

// ScoreParams are the weights for the complexity heuristic.
type ScoreParams struct {
	BaseScore      int
	LengthWeight   int
	CodeBlockScore int
	ToolCallScore  int
	MultiTurnScore int
}

// DefaultScoreParams mirrors the stock routing configuration.
func DefaultScoreParams() ScoreParams {
	return ScoreParams{
		BaseScore:      10,
		LengthWeight:   2,
		CodeBlockScore: 25,
		ToolCallScore:  20,
		MultiTurnScore: 2,
	}
}

// toolKeywords flags content that likely requires a tool call. Bilingual:
// the assistant serves both English and Chinese speakers.
var toolKeywords = []string{
	"执行", "运行", "搜索", "查询", "读取", "写入", "打开", "下载", "抓取",
	"文件", "命令", "脚本", "终端",
	"execute", "run ", "search", "query", "read file", "write file",
	"download", "fetch", "shell", "command", "script", "terminal", "list dir",
}

// NeedsTool reports whether the content mentions tool-requiring work.
func NeedsTool(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range toolKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Complexity scores content into [0,100].
func Complexity(content string, numTurns int, p ScoreParams) int {
	score := p.BaseScore

	lengthBonus := (len(content) / 100) * p.LengthWeight
	if lengthBonus > 20 {
		lengthBonus = 20
	}
	score += lengthBonus

	if strings.Contains(content, "`") {
		score += p.CodeBlockScore
	}
	if NeedsTool(content) {
		score += p.ToolCallScore
	}

	turnBonus := numTurns * p.MultiTurnScore
	if turnBonus > 10 {
		turnBonus = 10
	}
	score += turnBonus

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ComplexityToLevel maps a score to a capability level via fixed bands.
func ComplexityToLevel(score int) providers.Level {
	switch {
	case score < 20:
		return providers.LevelFast
	case score < 40:
		return providers.LevelLow
	case score < 60:
		return providers.LevelMedium
	case score < 80:
		return providers.LevelHigh
	default:
		return providers.LevelUltra
	}
}
