// Package http exposes the lab scheduler over JSON and WebSocket.
//
// Every route except GET /healthz expects `Authorization: Bearer <jwt>`
// signed with HS256 and carrying the `user_id`, `email` and `role` claims.
// GET /ws also accepts the token as the `access_token` query parameter
// because browsers cannot set headers on a WebSocket handshake.
//
//   - POST /events: create an event. Body: {"title","discipline","room","timeSlots":[{"date","startTime","endTime"}]}.
//   - GET /events: list events, filtered by `owner`, `discipline`, `state` and `pending=true`.
//   - GET /events/{id}, DELETE /events/{id}: read or delete one event.
//   - POST /events/{id}/proposals: {"action":"CANCEL"|"MOVE","reason","timeSlots"}.
//   - POST /events/{id}/modifications: {"modificationId","action":"confirm"|"reject"}.
//   - POST /events/{id}/owner-modifications: {"action":"GLOBAL_MODIFY"|"SLOT_MODIFY","slotId","proposedTimeSlots","reason"}.
//   - POST /events/{id}/slots/{slotId}/restore: {"reason"}.
//   - POST /events/{id}/validation: {"approve","reason"}.
//   - POST /admin/retention: {"removeOlderThan","dryRun"}.
//   - GET /ws: owner notification stream.
//
// Events are rendered in the stored document layout (`timeSlots`,
// `actuelTimeSlots`, `eventModifying`) next to an `outcome` describing what
// the call changed. DTOs live alongside their handlers.
package http
