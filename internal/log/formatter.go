package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders entries through a pattern with the placeholders
// %time, %level, %component, %msg and %field. %component expands to
// "name: " for tagged entries and to nothing otherwise; the component is
// then left out of %field.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(e *logrus.Entry) ([]byte, error) {
	component := ""
	if c, ok := e.Data[ComponentField]; ok {
		component = fmt.Sprint(c) + ": "
	}
	r := strings.NewReplacer(
		"%time", e.Time.Format(f.time),
		"%level", e.Level.String(),
		"%component", component,
		"%msg", e.Message,
		"%field", fields(e.Data),
	)
	return []byte(r.Replace(f.pattern)), nil
}

// fields renders every field but the component as sorted key=value pairs.
func fields(data logrus.Fields) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k != ComponentField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%v", k, data[k])
	}
	return b.String()
}
