package tgui

import "strings"

// Data formats inline callback data as "action:payload".
func Data(action, payload string) (string, error) {
	action = strings.TrimSpace(action)
	s := action
	if payload != "" {
		s = action + ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// MustData is like Data but panics on oversized data. Use it for
// compile-time constant keyboards only.
func MustData(action, payload string) string {
	s, err := Data(action, payload)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseData splits "action:payload". The payload may itself contain colons.
func ParseData(data string) (action, payload string, ok bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return "", "", false
	}
	action, payload, _ = strings.Cut(data, ":")
	if action == "" {
		return "", "", false
	}
	return action, payload, true
}
