// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders and grids
//   - Persistent reply keyboards
//   - Callback data helpers (action:payload)
package tgui
