package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskConnectionString(t *testing.T) {
	assert.Equal(t, "postgres://cpi:****@db:5432/cpi", maskConnectionString("postgres://cpi:s3cret@db:5432/cpi"))
	assert.Equal(t, "postgres://db:5432/cpi", maskConnectionString("postgres://db:5432/cpi"))
	assert.Equal(t, "host=db user=cpi", maskConnectionString("host=db user=cpi"))
}
