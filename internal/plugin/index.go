package plugin

// Package plugin runs batch handlers written in JavaScript.
//
// Plugins are JavaScript files loaded from a directory at startup.
// Each plugin must define:
//   - A @handler directive naming the batch handler it serves
//   - An execute(items, batch) function
//
// Throwing from execute, returning false, or exceeding the timeout fails the
// batch. Example plugin:
//
//	// @handler users.delete
//	function execute(items, batch) {
//	    var ids = items.map(function(u) { return u.id; });
//	    console.log("deleting", ids.length, "users in batch", batch.id);
//	    if (ids.length === 0) {
//	        throw new Error("no ids");
//	    }
//	    return true;
//	}
