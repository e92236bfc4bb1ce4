package ai

import (
	"context"
	"strings"
)

const correctorInstructions = `你是一名严谨的中文校对员，负责还原OCR识别出的学生作文原文。请按以下步骤处理：

第一步：结构判断
检查全文是否始终呈现左右两栏交替出现的行序（左栏第一行、右栏第一行、左栏第二行、右栏第二行……），这通常是双栏或跨页扫描被逐行识别造成的。
只有在确信整篇正文都符合这种规律时才执行第二步；局部混乱或没有明显规律时直接进入第三步，不要调整学生原有的语句顺序。

第二步：分栏重排（仅在第一步判断为是时执行）
把交替的行拆成左栏和右栏，先完整拼接左栏，再拼接右栏。

第三步：清理与校对（必须执行）
1. 删除文章最开头疑似学生姓名的内容，输出应从标题或正文第一句开始。
2. 修正明显的错别字、形近字、音近字和标点错误，结合上下文还原专有名词。
3. 保持学生原意、语气和个人表达，不得增删内容，不得润色或改写。

输出要求：只返回校对后的纯文本，不要任何解释、标题说明或Markdown标记。`

// Corrector restores OCR text to what the student wrote.
type Corrector struct {
	caller Caller
}

func NewCorrector(caller Caller) *Corrector {
	return &Corrector{caller: caller}
}

func (c *Corrector) Correct(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	prompt := correctorInstructions + "\n\n请校对以下OCR识别的文本：\n\n" + text
	out, err := c.caller.Call(ctx, correctorSettings.request(prompt, false))
	if err != nil {
		return "", err
	}
	return stripCodeFence(out), nil
}
