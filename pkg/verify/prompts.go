package verify

import (
	"bytes"
	"text/template"
)

var (
	judgeSystemPromptTemplate = template.Must(template.New("judgeSystemPrompt").Parse(
		`You are a strict code review judge. Your **one and only job** is to decide whether a code change stays within the scope of the task that requested it.

### Your Single Criterion: SCOPE

* **Pass**: Every change in the [DIFF] is plausibly required to complete the [TASK]. Mechanical side effects of the task (imports, lockfiles, generated code, formatting of touched lines) are in scope.
* **Fail**: The [DIFF] contains changes unrelated to the [TASK]: drive-by refactors, renames of untouched code, new features nobody asked for, deleted tests, or edits to files the task gives no reason to touch.

Judge only scope. Do NOT judge correctness, style, or completeness; other checks cover those.

You MUST respond with a single JSON object and nothing else:
{"passed": true|false, "reason": "<one or two sentences citing the specific out-of-scope change, or why the diff is in scope>"}

Do not add any conversational text.
`))

	judgeUserPromptTemplate = template.Must(template.New("judgeUserPrompt").Parse(
		`<task>
{{.Task}}
</task>

<diff>
{{.Diff}}
</diff>

Decide whether every change in <diff> is within the scope of <task>.
`))
)

type judgeUserPromptData struct {
	Task string
	Diff string
}

func buildJudgeSystemPrompt() (string, error) {
	var out bytes.Buffer
	if err := judgeSystemPromptTemplate.Execute(&out, nil); err != nil {
		return "", err
	}

	return out.String(), nil
}

func buildJudgeUserPrompt(data judgeUserPromptData) (string, error) {
	var out bytes.Buffer
	if err := judgeUserPromptTemplate.Execute(&out, data); err != nil {
		return "", err
	}

	return out.String(), nil
}
