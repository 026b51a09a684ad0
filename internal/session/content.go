package session

// DefaultDocument seeds a session that has nothing persisted yet.
const DefaultDocument = `# Weekly sync - NoteMate V2

## Attendees
- Vivien (lead)
- Bob (storage)
- Charlie (UI)

## Agenda
1. Review of the collaborative editor
2. Latency simulation results
3. Release planning

## Decisions
- Keep the markdown format for meeting notes
- Undo must never discard a teammate's work

## Action items
- [ ] Bob: finish the local storage optimization
- [ ] Charlie: polish the presence indicators
- TODO: schedule the V2 demo
`
