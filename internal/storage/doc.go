// Package storage is the SQLite persistence layer of the bot.
//
// It holds:
//   - the append-only snapshot log (one row per fetch, deduplicated by PruneDuplicates)
//   - the subscriber registry (Telegram users with their interest groups, and their chats)
//
// *Store implements outage.SnapshotStore and outage.SubscriberRegistry.
package storage
