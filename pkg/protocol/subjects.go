package protocol

import "fmt"

// NATS subject constants and helpers.
const (
	SubjectWorkflow  = "sdr.workflow"
	SubjectStreamAll = "sdr.stream.>"
)

func SubjectStream(port int) string {
	return fmt.Sprintf("sdr.stream.%d", port)
}
