package query_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformFilterParams(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]string
		want query.Filter
	}{
		{
			name: "operator and bare value",
			raw:  map[string]string{"name": "$ilike:john", "role": "customer"},
			want: query.Filter{
				"name": query.Filter{"$ilike": "john"},
				"role": query.Filter{"$eq": "customer"},
			},
		},
		{
			name: "numbers and booleans are coerced",
			raw:  map[string]string{"age": "$gte:18", "score": "$lt:4.5", "active": "TRUE"},
			want: query.Filter{
				"age":    query.Filter{"$gte": int64(18)},
				"score":  query.Filter{"$lt": 4.5},
				"active": query.Filter{"$eq": true},
			},
		},
		{
			name: "range on one field",
			raw:  map[string]string{"createdAt": "$gte:2024-01-01;$lte:2024-12-31"},
			want: query.Filter{
				"createdAt": query.Filter{"$gte": "2024-01-01", "$lte": "2024-12-31"},
			},
		},
		{
			name: "between expands to both bounds",
			raw:  map[string]string{"age": "$btw:18,65"},
			want: query.Filter{"age": query.Filter{"$gte": int64(18), "$lte": int64(65)}},
		},
		{
			name: "repeated between keeps the intersection",
			raw:  map[string]string{"age": "$btw:10,50;$btw:20,80"},
			want: query.Filter{"age": query.Filter{"$gte": int64(20), "$lte": int64(50)}},
		},
		{
			name: "plain bounds never widen a between",
			raw:  map[string]string{"age": "$btw:10,20;$gte:1;$lte:99", "score": "$gte:5;$btw:1,8;$lte:7"},
			want: query.Filter{
				"age":   query.Filter{"$gte": int64(10), "$lte": int64(20)},
				"score": query.Filter{"$gte": int64(5), "$lte": int64(7)},
			},
		},
		{
			name: "between on dates compares lexically",
			raw:  map[string]string{"createdAt": "$btw:2024-01-01,2024-06-30;$btw:2024-03-01,2024-12-31"},
			want: query.Filter{"createdAt": query.Filter{"$gte": "2024-03-01", "$lte": "2024-06-30"}},
		},
		{
			name: "in always yields a list",
			raw:  map[string]string{"role": "$in:client", "status": "$nin:a,2"},
			want: query.Filter{
				"role":   query.Filter{"$in": []any{"client"}},
				"status": query.Filter{"$nin": []any{"a", int64(2)}},
			},
		},
		{
			name: "dotted keys nest",
			raw:  map[string]string{"avatar.createdAt": "$exists:true", "avatar.url": "$like:%png"},
			want: query.Filter{
				"avatar": query.Filter{
					"createdAt": query.Filter{"$exists": true},
					"url":       query.Filter{"$like": "%png"},
				},
			},
		},
		{
			name: "unknown operator is dropped",
			raw:  map[string]string{"name": "$regex:^a;$eq:bob", "email": "$where:1"},
			want: query.Filter{"name": query.Filter{"$eq": "bob"}},
		},
		{
			name: "value may contain colons",
			raw:  map[string]string{"startsAt": "$gte:10:30"},
			want: query.Filter{"startsAt": query.Filter{"$gte": "10:30"}},
		},
		{
			name: "quoted value is kept verbatim",
			raw:  map[string]string{"name": `$eq:"Smith, John"`},
			want: query.Filter{"name": query.Filter{"$eq": "Smith, John"}},
		},
		{
			name: "non numeric words stay strings",
			raw:  map[string]string{"a": "NaN", "b": "Inf", "c": "0x1F", "d": "1e3"},
			want: query.Filter{
				"a": query.Filter{"$eq": "NaN"},
				"b": query.Filter{"$eq": "Inf"},
				"c": query.Filter{"$eq": "0x1F"},
				"d": query.Filter{"$eq": float64(1000)},
			},
		},
		{
			name: "leading zeros stay strings",
			raw:  map[string]string{"phone": "0712345", "code": "-007", "zero": "0", "half": "0.5"},
			want: query.Filter{
				"phone": query.Filter{"$eq": "0712345"},
				"code":  query.Filter{"$eq": "-007"},
				"zero":  query.Filter{"$eq": int64(0)},
				"half":  query.Filter{"$eq": 0.5},
			},
		},
		{
			name: "empty values produce nothing",
			raw:  map[string]string{"name": " ; "},
			want: query.Filter{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := query.TransformFilterParams(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransformFilterParams_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]string
	}{
		{"between with one bound", map[string]string{"age": "$btw:18"}},
		{"between with three bounds", map[string]string{"age": "$btw:1,2,3"}},
		{"empty path segment", map[string]string{"user..name": "x"}},
		{"operator as path segment", map[string]string{"$or": "x"}},
		{"leaf and relation on one path", map[string]string{"avatar": "x", "avatar.url": "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.TransformFilterParams(tt.raw)
			require.Error(t, err)

			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.True(t, errors.Is(err, models.ErrBadRequest))
			assert.NotNil(t, errors.Unwrap(err), "root cause must be preserved")
		})
	}
}

func TestSanitizeFilter_Scenario(t *testing.T) {
	spec := query.FilterSpec{
		"name": query.Allow(query.OpILike),
		"age":  query.Allow(query.OpGte, query.OpLte),
	}

	parsed, err := query.TransformFilterParams(map[string]string{
		"name": "$ilike:john",
		"age":  "$gte:18",
	})
	require.NoError(t, err)

	assert.Equal(t, query.Filter{
		"name": query.Filter{"$ilike": "john"},
		"age":  query.Filter{"$gte": int64(18)},
	}, query.SanitizeFilter(spec, parsed))
}

func TestSanitizeFilter(t *testing.T) {
	spec := query.FilterSpec{
		"name":  query.Allow(query.OpEq, query.OpILike),
		"age":   query.Allow(query.OpBetween),
		"email": query.Allow(query.OpILike),
		"avatar": query.Nested{
			"createdAt": query.Allow(query.OpGte),
		},
	}

	t.Run("drops unlisted fields and operators", func(t *testing.T) {
		got := query.SanitizeFilter(spec, query.Filter{
			"name":         query.Filter{"$ilike": "jo", "$ne": "x"},
			"passwordHash": query.Filter{"$eq": "x"},
			"email":        query.Filter{"$eq": "a@b.c"},
		})
		assert.Equal(t, query.Filter{"name": query.Filter{"$ilike": "jo"}}, got)
	})

	t.Run("bare values count as $eq", func(t *testing.T) {
		got := query.SanitizeFilter(spec, query.Filter{"name": "bob", "email": "a@b.c"})
		assert.Equal(t, query.Filter{"name": query.Filter{"$eq": "bob"}}, got)
	})

	t.Run("between allow-list admits both bounds", func(t *testing.T) {
		got := query.SanitizeFilter(spec, query.Filter{"age": query.Filter{"$gte": 1, "$lte": 2, "$gt": 3}})
		assert.Equal(t, query.Filter{"age": query.Filter{"$gte": 1, "$lte": 2}}, got)
	})

	t.Run("nested specs recurse", func(t *testing.T) {
		got := query.SanitizeFilter(spec, query.Filter{
			"avatar": query.Filter{
				"createdAt": query.Filter{"$gte": "2024-01-01", "$lt": "x"},
				"url":       query.Filter{"$eq": "secret"},
			},
		})
		assert.Equal(t, query.Filter{
			"avatar": query.Filter{"createdAt": query.Filter{"$gte": "2024-01-01"}},
		}, got)
	})

	t.Run("nested spec with scalar value is dropped", func(t *testing.T) {
		assert.Empty(t, query.SanitizeFilter(spec, query.Filter{"avatar": "x"}))
	})

	t.Run("logical combinators from clients never survive", func(t *testing.T) {
		got := query.SanitizeFilter(spec, query.Filter{
			"$or": []query.Filter{{"passwordHash": query.Filter{"$eq": "x"}}},
		})
		assert.Empty(t, got)
	})
}

// Randomised check that the sanitized output is always a subset of the filter spec.
func TestSanitizeFilter_NeverEscapesSpec(t *testing.T) {
	spec := query.FilterSpec{
		"name": query.Allow(query.OpILike),
		"age":  query.Allow(query.OpGte, query.OpLte),
		"profile": query.Nested{
			"city": query.Allow(query.OpEq),
		},
	}
	fields := []string{"name", "age", "email", "profile.city", "profile.zip", "role", "profile"}
	ops := []string{"$eq", "$gt", "$gte", "$lt", "$lte", "$ne", "$in", "$nin", "$like", "$ilike", "$btw", "$exists", "$bogus"}
	values := []string{"1", "2", "x", "a,b", "true", "1,5"}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		raw := map[string]string{}
		for j := 0; j < 1+rng.Intn(4); j++ {
			field := fields[rng.Intn(len(fields))]
			raw[field] = ops[rng.Intn(len(ops))] + ":" + values[rng.Intn(len(values))]
		}

		parsed, err := query.TransformFilterParams(raw)
		if err != nil {
			continue
		}
		assertWithinSpec(t, spec, query.SanitizeFilter(spec, parsed))
	}
}

func assertWithinSpec(t *testing.T, spec query.FilterSpec, f query.Filter) {
	t.Helper()
	for field, value := range f {
		rule, ok := spec[field]
		require.Truef(t, ok, "field %q is not in the filter spec", field)

		conds, ok := value.(query.Filter)
		require.True(t, ok)

		switch r := rule.(type) {
		case query.Ops:
			for op := range conds {
				assert.Truef(t, r.Allows(query.Operator(op)), "operator %s not allowed on %s", op, field)
			}
		case query.Nested:
			assertWithinSpec(t, query.FilterSpec(r), conds)
		}
	}
}

func TestUnflatten(t *testing.T) {
	got := query.Unflatten(map[string]any{
		"a.b.c": 1,
		"a.d":   2,
		"e":     3,
	})
	assert.Equal(t, query.Filter{
		"a": query.Filter{"b": query.Filter{"c": 1}, "d": 2},
		"e": 3,
	}, got)
}
