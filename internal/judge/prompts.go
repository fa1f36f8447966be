package judge

import "fmt"

const critiqueSystemPrompt = `You will be given a JSON array containing the conversation between an International Baccalaureate student and a custom AI assistant.`

const consolidateSystemPrompt = `You will pin down problems in chats between an International Baccalaureate student and a custom AI assistant.`

// critiquePrompt asks for a structured critique of one conversation.
func critiquePrompt(conversation string) string {
	return fmt.Sprintf(`You will be given a JSON array containing the conversation between an International Baccalaureate student and a custom AI assistant.
Take the following factors into account, considering how they influence one another, to identify problems with the AI.
Give examples from the conversation as relevant.

Focus on:
1. Conversation length
2. Why the conversation ended (out of satisfaction, frustration, etc.)
3. Sentiment analysis of the user's prompts
4. Relevancy and efficacy of toolInvocations calls, if that field key name is used in the messages array

Conversation:
%s

Please provide a structured critique with specific examples. Keep it concise and direct.`, conversation)
}

// consolidatePrompt asks for the recurring problems across many critiques.
func consolidatePrompt(critiques string) string {
	return fmt.Sprintf(`You will be given a JSON array containing the problems identified in conversations
between an International Baccalaureate student and a custom AI assistant.

You will:
1. Identify the key and recurring problems mentioned
2. Suggest actionable ideas to improve the AI assistant
3. Include examples as relevant

The critique:
%s

Keep your response very short and concise.`, critiques)
}
