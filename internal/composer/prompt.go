package composer

import (
	"strings"

	"github.com/kalambet/filerag/internal/remote"
)

// RefusalSentence is the exact sentence the model is told to produce when the
// documents do not contain the answer. Answer classification matches on it.
const RefusalSentence = "I don't have this information in the provided documents."

const preamble = `You are a helpful assistant that answers questions based on provided documents.

Read the following documents carefully and answer the user's question based ONLY on the information in these documents.

If the answer is found in the documents, provide a detailed answer and cite which document(s) it came from.
If the answer is NOT found in the documents, respond with: "` + RefusalSentence + `"`

// Composer builds grounding prompts for document question answering.
type Composer struct {
	// ListDocuments adds a [Documents] section naming each attached file so
	// the model can cite them by display name.
	ListDocuments bool
}

// New creates a Composer.
func New(listDocuments bool) *Composer {
	return &Composer{ListDocuments: listDocuments}
}

// Compose returns the instruction block for question, to be sent together
// with docs as attachments.
func (c *Composer) Compose(question string, docs []remote.DocumentHandle) string {
	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n\n")

	if c.ListDocuments && len(docs) > 0 {
		sb.WriteString("[Documents]\n")
		for _, d := range docs {
			sb.WriteString("- ")
			sb.WriteString(d.DisplayName)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}

// Grounding is Compose without a document section.
func Grounding(question string) string {
	return New(false).Compose(question, nil)
}
