// Package ledger persists the resources a bastion run created.
//
// The ledger is a JSON document rewritten atomically (temp file, fsync,
// rename, directory fsync) on every mutation, so a record is durable before
// the next cloud resource is created. A separate process can reload it to
// tear the bastion down. Writers are serialised with flock(2) on a sibling
// ".lock" file.
package ledger
