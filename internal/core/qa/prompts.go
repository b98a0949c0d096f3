package qa

import "strings"

// promptTemplate holds a fixed system prompt and a user template with two
// holes: {context} and {question}. Every template instructs the model to
// answer only from the supplied context and to say when it is insufficient.
type promptTemplate struct {
	system string
	user   string
}

func (t promptTemplate) render(contextText, question string) string {
	r := strings.NewReplacer("{context}", contextText, "{question}", question)
	return r.Replace(t.user)
}

var generalPrompt = promptTemplate{
	system: `You are a helpful assistant that answers questions based on the provided documents.

Provide clear, concise answers directly addressing the user's question.
If the answer isn't in the documents, say so clearly.
Keep responses focused and to the point.`,
	user: `Answer the following question based on these documents:

Documents:
{context}

Question: {question}

Answer:`,
}

var researchPrompt = promptTemplate{
	system: `You are a research assistant providing detailed, well-sourced answers.

Guidelines:
- Provide comprehensive answers with multiple perspectives
- Always cite sources (document numbers)
- Include relevant details and nuances
- If there are different viewpoints, present them all
- If the documents do not cover the question, state that plainly`,
	user: `Provide a detailed research answer to the following question based on these documents:

Documents:
{context}

Question: {question}

Include:
1. Direct answer to the question
2. Supporting details from documents
3. Source citations

Answer:`,
}

var specificPrompt = promptTemplate{
	system: `You are a subject matter expert answering domain-specific questions.

Guidelines:
- Use technical terminology appropriately
- Focus on the most relevant information
- Reference specific document sections
- Answer only from the provided documents and flag gaps in them`,
	user: `Answer this specific domain question based on the documents:

Documents:
{context}

Question: {question}

Provide a focused, expert answer:`,
}

var complexPrompt = promptTemplate{
	system: `You are an analytical assistant handling complex questions requiring synthesis and reasoning.

Guidelines:
- Break down complex questions into components
- Synthesize information from multiple documents
- Show your reasoning step-by-step
- Use only the provided documents and note where they fall short`,
	user: `Analyze and answer this complex question using the provided documents:

Documents:
{context}

Question: {question}

Provide:
1. Question breakdown
2. Key findings from each relevant source
3. Synthesis and conclusions

Answer:`,
}

// promptFor picks the template for a query type; unknown types behave like
// general.
func promptFor(queryType string) promptTemplate {
	switch strings.ToLower(queryType) {
	case "research":
		return researchPrompt
	case "specific":
		return specificPrompt
	case "complex":
		return complexPrompt
	default:
		return generalPrompt
	}
}

// normalizeQueryType collapses unknown types to general for reporting.
func normalizeQueryType(queryType string) string {
	switch strings.ToLower(queryType) {
	case "research", "specific", "complex":
		return strings.ToLower(queryType)
	default:
		return "general"
	}
}
