package transport

var ResolveTarget = resolveTarget
