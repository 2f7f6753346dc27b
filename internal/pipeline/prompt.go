package pipeline

import (
	"fmt"
	"strings"
)

const responseShape = `{"summary": "<3-5 neutral sentences>", "commonGround": ["<fact all outlets agree on>"], "keyDifferences": ["<where framing or facts diverge, naming outlets>"]}`

// BuildPrompt asks for a grounded, neutral comparison of coverage as strict JSON.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a neutral news analyst. Use web search to find how different outlets are covering the same story.\n\n")

	link := strings.TrimSpace(req.URL)
	keywords := strings.TrimSpace(req.Keywords)
	switch {
	case link != "" && keywords != "":
		fmt.Fprintf(&b, "Story link: %s\nIf the link cannot be read, identify the story from these keywords: %s\n", link, keywords)
	case link != "":
		fmt.Fprintf(&b, "Story link: %s\n", link)
	default:
		fmt.Fprintf(&b, "Identify the story from these keywords: %s\n", keywords)
	}

	b.WriteString("\nSearch for reporting on this story from a broad range of outlets: wire services, public broadcasters, national and international papers, and local outlets. ")
	b.WriteString("Do not take sides or assess who is right.\n\n")
	b.WriteString("Respond with only a JSON object, no prose and no code fences, in exactly this shape:\n")
	b.WriteString(responseShape)
	b.WriteString("\n")
	return b.String()
}
