// Package notifier forwards task outcomes to an operator chat.
//
// The service subscribes to task.* events on the event bus, formats one short
// message per event and hands it to a queue drained by a small worker pool.
// Sends are rate limited, retried with jittered backoff and deduplicated per
// task and event type, so a task never produces the same alert twice within
// the dedup window.
//
// # Transport
//
// Delivery goes through a Sender. The production Sender is a Telegram bot
// (telebot) that only sends messages and never polls for updates. Tests use
// an in-memory Sender.
//
// # History
//
// The service keeps a small in-memory history of delivered messages for the
// /status endpoint.
package notifier
