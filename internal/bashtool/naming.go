package bashtool

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

// Same four-random-word idiom as internal/output/store.go's filename
// slugs (math/rand seeded per call; no repo in the pack imports a
// dedicated word-list library), applied here to background task ids
// instead of output filenames.
var taskWords = []string{
	"amber", "forest", "thunder", "pearl", "cobalt", "meadow", "ember", "granite",
	"willow", "cinder", "harbor", "lantern", "quartz", "ridge", "salt", "timber",
	"velvet", "whisper", "zephyr", "copper", "marsh", "orchid", "raven", "silver",
}

var taskIDCounter atomic.Uint64

// RandomTaskID returns a four-word id like "amber-forest-thunder-pearl".
func RandomTaskID() string {
	n := taskIDCounter.Add(1)
	r := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(n)))
	pick := func() string { return taskWords[r.Intn(len(taskWords))] }
	return fmt.Sprintf("%s-%s-%s-%s", pick(), pick(), pick(), pick())
}
