// Package password hashes and verifies passwords with argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<lanes>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes made with weaker parameters so the user directory
// can be re-hashed offline.
//
// # What this package must NOT do
//
//   - Store or look up users.
//   - Log plaintext passwords.
package password
