package prompts

// ApologyMessage is the assistant reply substituted when the model call
// fails. The turn still completes and is checkpointed.
const ApologyMessage = "Sorry, I'm having trouble reaching the assistant service right now. Your message was saved; please try again in a moment."

// EmptyResponseFallback is the user-facing message returned when the
// model produces neither content nor tool calls.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// MaxIterationsNudge is appended as a system instruction on the final
// allowed model call, when tools are withheld.
const MaxIterationsNudge = "You have used the maximum number of tool steps for this request. Do not call any more tools. Summarize what was done and answer the user now."
