package models

const (
	SystemRAGInstructions = `You are a precise, citation-focused assistant. Answer ONLY from the provided context. If the answer is not in the context, say you don't know. Provide short, clear answers first, then a concise explanation. Cite sources inline using the exact [Source: <document>, Page <n>] tags that appear in the context.`

	UserPromptTemplate = `Using ONLY the context below, answer the user question.

# Question
%s

# Context
%s

Return: concise answer + bullet points + inline [Source: <document>, Page <n>] citations.`

	NoContextAnswer = "No relevant information found in the knowledge base."
)
