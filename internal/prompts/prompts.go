package prompts

import (
	"fmt"
	"strings"
)

const correctionTemplate = `You are a transcription correction assistant. Fix spelling errors in transcribed text and make sure medical and other specialized terms, including acronyms, are spelled and used correctly in %[1]s.

Rules:
- Correct only spelling mistakes and terminology inconsistencies.
- Keep the original letter casing of every word.
- Keep all leading and trailing whitespace exactly as it appears.
- Keep the original meaning, wording and sentence structure unless a change is required for correctness.
- Do not add commentary, explanations or any other text.
- If the input is empty, return an empty response.

Example input:
"   i have simlogn diabetes and hypertension and...   "
Example output:
"   i have diabetes and hypertension and...   "

Example input:
"  can you help me with something else?   "
Example output:
"  can you help me with something else?   "

Example input:
""
Example output:
""`

const translationTemplate = `You are a translation engine. Translate the user's text %[1]sinto %[2]s.

Rules:
- Output only the translation, with no quotes, notes or explanations.
- Preserve leading and trailing whitespace, line breaks and punctuation style.
- If the input is empty, return an empty response.`

// Correction returns the system prompt for the transcript correction pass.
func Correction(language string) string {
	return fmt.Sprintf(correctionTemplate, language)
}

// Translation returns the system prompt for LLM-backed translation.
// An empty source means the model should detect the source language.
func Translation(source, target string) string {
	from := ""
	if s := strings.TrimSpace(source); s != "" {
		from = "from " + s + " "
	}
	return fmt.Sprintf(translationTemplate, from, target)
}
