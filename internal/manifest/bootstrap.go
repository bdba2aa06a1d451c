package manifest

// Bootstrap returns the built-in dependency set pypin needs before a
// package index is usable: the resolver backend and distlib are pinned
// by URL and sha256 (their own self-tests are skipped to avoid a
// circular test dependency), while packaging and setuptools come from
// the ambient package set.
func Bootstrap() *Manifest {
	m, err := New([]Descriptor{
		{
			Name:       "resolvelib",
			Kind:       KindFetched,
			Dist:       "resolvelib-0.3.0",
			URL:        "https://files.pythonhosted.org/packages/source/r/resolvelib/resolvelib-0.3.0.tar.gz",
			SHA256:     "9781c2038be2ba3377d075dbc7d5a0e2f3090ba6b2eb72a1a8b252d04b1f7c04",
			SkipChecks: true,
		},
		{
			Name:       "distlib",
			Kind:       KindFetched,
			Dist:       "distlib-0.3.0",
			URL:        "https://files.pythonhosted.org/packages/source/d/distlib/distlib-0.3.0.zip",
			SHA256:     "2e166e231a26b36d6dfe35a48c4464346620f8645ed0ace01ee31822b288de21",
			SkipChecks: true,
		},
		{
			Name:    "packaging",
			Kind:    KindAlias,
			AliasOf: "packaging",
		},
		{
			Name:    "setuptools",
			Kind:    KindAlias,
			AliasOf: "setuptools",
		},
	})
	if err != nil {
		// The built-in table is static; a constructor error here is a bug.
		panic(err)
	}
	return m
}
