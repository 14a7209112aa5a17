package summarizer

const systemPrompt = `You maintain the long-term memory of a chat assistant.

You receive the running memory of a conversation: an earlier summary (if any)
followed by the newest Human/Assistant exchanges. Rewrite it as one compact
summary that a future assistant can rely on instead of the full history.

Keep:
- facts the human stated about themselves, their work and their preferences
- decisions, conclusions and open questions
- names, numbers, code identifiers and other specifics that were referenced later

Drop greetings, filler and anything superseded by a later exchange.
Write plain prose in the third person. Do not add information that is not in the memory.
Respond with the summary only.`

const summaryUserPrompt = `Conversation memory to compress:

%s`

// maxSummaryTokens bounds the compressed summary length.
const maxSummaryTokens = 1024
