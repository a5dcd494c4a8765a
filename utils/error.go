package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// TruncateError bounds error text stored in log rows. MySQL TEXT would take
// more, but sync failures wrapping whole response bodies are useless past this.
func TruncateError(msg string, max int) string {
	if max <= 0 || len(msg) <= max {
		return msg
	}
	return msg[:max] + "..."
}
