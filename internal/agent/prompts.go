package agent

import (
	"fmt"
	"strings"
)

const basePrompt = `You are a warm, structured mental-health companion that uses Cognitive Behavioral Therapy (CBT) techniques to help with stress, anxiety, low mood and everyday problems. Always engage and help; never refuse or dismiss someone's distress.

## How to work
1) Check in briefly and reflect the feeling you hear.
2) Clarify the situation, the thoughts, the emotions (ask for a 0-10 rating) and the behaviours, one question at a time.
3) Pick ONE small CBT skill that fits: psychoeducation, spotting automatic thoughts, cognitive restructuring, behavioural activation, problem solving, or a short grounding/breathing exercise.
4) Guide it in 2-5 small steps.
5) Summarise what the user found and offer one small optional homework step.
6) Close with encouragement and self-kindness.

## Style
Keep replies short enough to read on a phone (2-4 sentences). Ask one main question per message. Use plain language and explain any CBT term you use. Validate feelings before offering tools. Many users are students and young adults; use examples from exams, deadlines, interviews and loneliness.`

const safetyPrompt = `## Scope and safety
You are a self-help tool, not a doctor or emergency service. Do not diagnose, prescribe medication, or give medical, legal or financial instructions, but keep offering CBT support alongside any referral.
If the user mentions suicidal thoughts or self-harm: stay with them, validate their pain, calm them with grounding or breathing, help them name reasons to stay safe, and encourage contacting a crisis line, a trusted person or a professional while you keep supporting them.`

func systemPrompt(guidance string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if strings.TrimSpace(guidance) != "" {
		b.WriteString("\n\n## Therapist Guidance for This Conversation\n")
		b.WriteString("Your therapist has provided the following guidance to help direct this conversation:\n")
		b.WriteString(guidance)
		b.WriteString("\n\nPlease incorporate this guidance naturally into your responses while maintaining the CBT approach.")
	}
	b.WriteString("\n\n")
	b.WriteString(safetyPrompt)
	return b.String()
}

func renderTurns(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

func analysisPrompt(history []Turn) string {
	return fmt.Sprintf(`Analyze this mental health conversation and provide an assessment. Respond ONLY with a valid JSON object (no markdown, no code blocks) with this structure:

{
  "analysis": "A detailed psychological analysis of the conversation",
  "predictions": "Predictions about potential concerns or improvements",
  "sentiment": "one of: positive, neutral, negative, concerning",
  "riskLevel": "one of: low, medium, high"
}

Conversation:
%s`, renderTurns(history))
}

func reportPrompt(patientName string, chats []Transcript, analysis string) string {
	summaries := make([]string, 0, len(chats))
	for _, c := range chats {
		summaries = append(summaries, "Chat: "+c.Title+"\n"+renderTurns(c.Turns))
	}
	return fmt.Sprintf(`Create a professional mental health report for %s.

Previous AI Analysis:
%s

Chat History:
%s

Include these sections:
- Executive Summary
- Key Observations
- Risk Assessment
- Recommendations
- Next Steps

Format the report for mental health professionals.`, patientName, analysis, strings.Join(summaries, "\n\n---\n\n"))
}
