package sasl

// response computes the client's outbound bytes for the current step.
// decoded is the server's challenge for this step; for both supported
// mechanisms it is ignored (PLAIN is one-shot and EXTERNAL never
// replies with content), but it is threaded through so a future
// challenge/response mechanism could use it without changing this
// signature (see spec §9's Mechanism extension note).
func response(mech Mechanism, cred Credentials, decoded []byte) []byte {
	switch mech {
	case Plain:
		// authzid \0 authcid \0 password; both identities are the
		// session username by design.
		out := make([]byte, 0, len(cred.Username)*2+len(cred.Password)+2)
		out = append(out, cred.Username...)
		out = append(out, 0)
		out = append(out, cred.Username...)
		out = append(out, 0)
		out = append(out, cred.Password...)
		return out
	case External:
		return nil
	default:
		return nil
	}
}
