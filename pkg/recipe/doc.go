// Package recipe implements the package descriptor runtime. A descriptor is a Starlark script (recipe.star) that
// declares the package metadata through recipe() and may define the lifecycle hooks export_sources, package,
// deploy and package_id.
package recipe
