// Package release is the release and rollback orchestration core.
//
// A target host keeps three time-ordered artifact histories under deploy_to:
//
//	releases/<id>                            code releases (directories)
//	shared/dumps/<id>-snapshot.sql.bz2       database snapshots
//	shared/files_backup/<id>-files.tar.bz2   files archives
//
// and a current symlink naming the live release. Ids are UTC timestamps in
// the fixed-width form YYYYMMDDHHMMSS, so lexical order is chronological.
//
// The components, all bound to one host through a Site:
//   - Timeline: one history, listed from the remote directory
//   - Pointer: the current symlink; Switch repoints it with its own compensation
//   - Coordinator: the forward deploy, run as a compensating transaction
//   - Rollback: reverts all three histories to their previous entries
//   - Retention: trims each history to the last K entries
//   - Puller: copies the live database and files back to the operator machine
//
// Nothing here locks the remote state. At most one deploy, rollback or
// cleanup may run against a host at a time; callers serialize externally.
//
// Example:
//
//	site := release.NewSite(cfg, host, &remote.SSH{Address: host.Address}, &remote.Local{}, logger)
//	id, err := release.NewCoordinator(site, release.Options{}).Deploy(ctx, prompt.NewInteractive())
package release
