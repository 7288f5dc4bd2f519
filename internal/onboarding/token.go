package onboarding

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

var operationNamespace = uuid.MustParse("6f1c2a9e-4b7d-5e0a-9c3f-1d8e2b4a7c60")

// operationToken derives a stable operation id from the deliveries a launch
// was made for, so a redelivered batch reuses the id of the operation it
// already started. It returns "" when there is nothing to derive from.
func operationToken(resource string, sources []string) string {
	if len(sources) == 0 {
		return ""
	}
	ids := slices.Clone(sources)
	slices.Sort(ids)
	return uuid.NewSHA1(operationNamespace, []byte(resource+"\n"+strings.Join(ids, "\n"))).String()
}
