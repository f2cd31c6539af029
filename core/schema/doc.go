/*
Package schema defines the OCCI type model.

Every type in the system is a Category identified by scheme and term:

	http://schemas.ogf.org/occi/infrastructure#compute

There are three flavours:

  - Kind: the primary type of an entity. Kinds form a single-inheritance
    chain (compute -> resource -> entity) and own a collection location
    such as /compute/.
  - Mixin: extra attributes and actions layered onto an entity at runtime.
    Mixins may be declared by providers or by clients.
  - Action: an operation with its own parameter schema.

# Attributes

Attribute values are tagged (string, number or bool). The effective schema
of an entity is the union of its kind chain and its mixins:

	attrs := schema.EffectiveAttributes(kind, mixins)
	err := schema.ValidateCreate(attrs, values)

When a mixin redefines an attribute the strictest constraint wins.

# Extensions

Provider mixins can be loaded from YAML:

	defs, err := schema.ParseDir("extensions/")
	actions, mixins, err := defs[0].Build(resolve)

# Errors

All failures are *Error values carrying a Code. Use errors.Is with the
Err* sentinels or CodeOf to classify them.
*/
package schema
