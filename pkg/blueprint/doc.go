// Package blueprint loads the desired state of an infrastructure from a
// directory of modules.
//
// A module is a .cue or .star file declaring two top-level collections:
//
//	classes: BigVolume: {
//		extends: "null.volume"
//		attributes: size: {default: 100, required: true}
//	}
//	resources: Data: {
//		type: "BigVolume"
//		depends_on: ["servers.web.Web"]
//		attributes: format: "xfs"
//	}
//
// Starlark modules assign the same shapes to the globals classes and
// resources. Every module is checked against one CUE schema and the
// validator struct tags, whatever its format.
//
// Names are qualified by the module path: the resource Data in
// storage/db.cue lives at storage.db.Data. Class and dependency references
// without a dot are looked up in the declaring module first.
//
// The Importer rebuilds the persisted side of a diff from the store, using
// the modules saved at the last apply so that blueprint classes keep the
// shape they had then.
package blueprint
